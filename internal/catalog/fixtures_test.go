package catalog

const listingHTML = `<html><body>
<ol class="row">
  <li><article class="product_pod"><h3><a href="../../a-light-in-the-attic_1000/index.html" title="A Light in the Attic">A Light in the ...</a></h3></article></li>
  <li><article class="product_pod"><h3><a href="../../tipping-the-velvet_999/index.html">Tipping the Velvet</a></h3></article></li>
  <li><article class="product_pod"><h3><a>No link</a></h3></article></li>
</ol>
<a href="/elsewhere.html">unrelated</a>
</body></html>`

const productHTML = `<html><body>
<ul class="breadcrumb">
  <li><a href="../../index.html">Home</a></li>
  <li><a href="../category/books_1/index.html">Books</a></li>
  <li><a href="../category/books/poetry_23/index.html">Poetry</a></li>
  <li class="active">A Light in the Attic</li>
</ul>
<div id="product_gallery"><img src="../../media/cache/fe/72/fe72.jpg" alt="A Light in the Attic"></div>
<div class="product_main">
  <h1>A Light in the Attic</h1>
  <p class="price_color">£51.77</p>
  <p class="instock availability">
      In stock (22 available)
  </p>
  <p class="star-rating Three"></p>
</div>
<div id="product_description" class="sub-header"><h2>Product Description</h2></div>
<p>It's hard to imagine a world without A Light in the Attic.</p>
<table class="table table-striped">
  <tr><th>UPC</th><td>a897fe39b1053632</td></tr>
  <tr><th>Product Type</th><td>Books</td></tr>
  <tr><th>Availability</th><td>In stock (22 available)</td></tr>
</table>
</body></html>`
